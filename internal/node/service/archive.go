package service

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	accessmodel "papervault/internal/access/model"
	"papervault/internal/apperr"
	"papervault/internal/node/model"
	"papervault/internal/storage"
)

// Download is a file ready to be streamed to the client.
type Download struct {
	Name        string
	ContentType string
	WriteTo     func(w io.Writer) error
}

// Download serves a document version as is (version 0 is the latest) and a
// folder as a tar of its children.
func (s *NodeService) Download(ctx context.Context, userID, nodeID string, version int) (*Download, error) {
	node, err := s.Repo.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := s.Access.Require(ctx, userID, accessmodel.PermRead, nodeID); err != nil {
		return nil, err
	}

	if !node.IsFolder() {
		number, fileName, mime, err := s.Repo.VersionFile(ctx, nodeID, version)
		if err != nil {
			return nil, err
		}
		rel := storage.VersionPath(node.UserID, nodeID, number, fileName)
		return &Download{
			Name:        node.Title,
			ContentType: mime,
			WriteTo: func(w io.Writer) error {
				f, err := s.Storage.Open(rel)
				if err != nil {
					return fmt.Errorf("open %s: %w", rel, err)
				}
				defer f.Close()
				_, err = io.Copy(w, f)
				return err
			},
		}, nil
	}

	children, err := s.Repo.ListChildren(ctx, nodeID, model.ListOptions{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return s.tarDownload(ctx, node.Title+".tar", ids)
}

// DownloadMany packs the given nodes; read is required on every one.
func (s *NodeService) DownloadMany(ctx context.Context, userID string, nodeIDs []string) (*Download, error) {
	if len(nodeIDs) == 0 {
		return nil, apperr.Invalid("node_ids[] is required")
	}
	if err := s.Access.RequireAll(ctx, userID, accessmodel.PermRead, nodeIDs); err != nil {
		return nil, err
	}
	return s.tarDownload(ctx, "download.tar", nodeIDs)
}

func (s *NodeService) tarDownload(ctx context.Context, name string, roots []string) (*Download, error) {
	var entries []model.ArchiveEntry
	if len(roots) > 0 {
		var err error
		if entries, err = s.Repo.Subtree(ctx, roots); err != nil {
			return nil, err
		}
	}
	return &Download{
		Name:        name,
		ContentType: "application/x-tar",
		WriteTo: func(w io.Writer) error {
			return writeTar(w, s.Storage, entries)
		},
	}, nil
}

func writeTar(w io.Writer, store *storage.Local, entries []model.ArchiveEntry) error {
	tw := tar.NewWriter(w)
	now := time.Now()
	for _, e := range entries {
		if e.CType == model.CTypeFolder {
			hdr := &tar.Header{Typeflag: tar.TypeDir, Name: e.Path + "/", Mode: 0o755, ModTime: now}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			continue
		}
		if e.Version == 0 {
			continue
		}
		if err := addFile(tw, store, e, now); err != nil {
			return err
		}
	}
	return tw.Close()
}

func addFile(tw *tar.Writer, store *storage.Local, e model.ArchiveEntry, modTime time.Time) error {
	rel := storage.VersionPath(e.UserID, e.NodeID, e.Version, e.FileName)
	f, err := store.Open(rel)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Clean(e.Path),
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
