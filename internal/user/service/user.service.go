package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"papervault/config/database"
	"papervault/internal/apperr"
	nodemodel "papervault/internal/node/model"
	noderepo "papervault/internal/node/repository"
	"papervault/internal/user/model"
	"papervault/internal/user/repository"
	"papervault/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Remover drops nodes from the search index.
type Remover interface {
	RemoveNodes(ctx context.Context, ids ...string) error
}

// FileRemover deletes the stored files of a document.
type FileRemover interface {
	RemoveDocument(userID, docID string) error
}

type UserService struct {
	Repo       *repository.UserRepository
	Nodes      *noderepo.NodeRepository
	Files      FileRemover
	Indexer    Remover
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

func NewUserService(repo *repository.UserRepository, nodes *noderepo.NodeRepository, files FileRemover, indexer Remover, secret string, ttl time.Duration) *UserService {
	return &UserService{
		Repo:       repo,
		Nodes:      nodes,
		Files:      files,
		Indexer:    indexer,
		Secret:     secret,
		TokenTTL:   ttl,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Register creates a user together with its .home and .inbox folders.
func (s *UserService) Register(ctx context.Context, req model.RegisterRequest, superuser bool) (model.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return model.User{}, apperr.Invalid("username and password are required")
	}
	if len(req.Password) < 8 {
		return model.User{}, apperr.Invalid("password must be at least 8 characters")
	}
	lang := req.Lang
	if lang == "" {
		lang = "eng"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hash),
		IsSuperuser:  superuser,
		Lang:         lang,
	}
	home := nodemodel.Node{ID: uuid.NewString(), Title: nodemodel.HomeTitle, CType: nodemodel.CTypeFolder, UserID: user.ID}
	inbox := nodemodel.Node{ID: uuid.NewString(), Title: nodemodel.InboxTitle, CType: nodemodel.CTypeFolder, UserID: user.ID}

	err = database.WithTx(ctx, s.Repo.DB, func(tx database.DBTX) error {
		if err := s.Repo.With(tx).Create(ctx, user); err != nil {
			return err
		}
		nodes := s.Nodes.With(tx)
		if err := nodes.Create(ctx, home); err != nil {
			return err
		}
		if err := nodes.Create(ctx, inbox); err != nil {
			return err
		}
		return s.Repo.With(tx).SetSpecialFolders(ctx, user.ID, home.ID, inbox.ID)
	})
	if err != nil {
		return model.User{}, err
	}

	user.HomeFolderID = home.ID
	user.InboxFolderID = inbox.ID
	logger.Sugar.Infof("Registered user %s (%s)", user.Username, user.ID)
	return user, nil
}

// Login checks credentials and issues a signed token.
func (s *UserService) Login(ctx context.Context, req model.TokenRequest) (model.TokenResponse, error) {
	user, err := s.Repo.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, apperr.ErrNotFound) {
		return model.TokenResponse{}, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}
	if err != nil {
		return model.TokenResponse{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return model.TokenResponse{}, fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}
	return s.IssueToken(user.ID)
}

func (s *UserService) IssueToken(userID string) (model.TokenResponse, error) {
	now := time.Now()
	expires := now.Add(s.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(s.Secret))
	if err != nil {
		return model.TokenResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return model.TokenResponse{Token: signed, ExpiresAt: expires}, nil
}

func (s *UserService) Get(ctx context.Context, userID string) (model.User, error) {
	return s.Repo.Get(ctx, userID)
}

// Delete removes the user, its tree and its stored files.
func (s *UserService) Delete(ctx context.Context, actorID, userID string) error {
	if actorID != userID {
		if err := s.requireSuperuser(ctx, actorID); err != nil {
			return err
		}
	}
	user, err := s.Repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	ids, err := s.Repo.NodeIDs(ctx, userID)
	if err != nil {
		return err
	}
	docs, err := s.Nodes.DocumentsIn(ctx, rootsOf(user))
	if err != nil {
		return err
	}

	if _, err := s.Repo.Delete(ctx, userID); err != nil {
		return err
	}

	for _, d := range docs {
		if err := s.Files.RemoveDocument(d[0], d[1]); err != nil {
			logger.Sugar.Errorf("Failed to remove files of document %s: %v", d[1], err)
		}
	}
	if s.Indexer != nil && len(ids) > 0 {
		if err := s.Indexer.RemoveNodes(ctx, ids...); err != nil {
			logger.Sugar.Errorf("Failed to drop %d nodes of user %s from index: %v", len(ids), userID, err)
		}
	}
	return nil
}

func rootsOf(u model.User) []string {
	var roots []string
	for _, id := range []string{u.HomeFolderID, u.InboxFolderID} {
		if id != "" {
			roots = append(roots, id)
		}
	}
	return roots
}

func (s *UserService) CreateGroup(ctx context.Context, actorID, name string) (model.Group, error) {
	if err := s.requireSuperuser(ctx, actorID); err != nil {
		return model.Group{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, apperr.Invalid("group name cannot be empty")
	}
	g := model.Group{ID: uuid.NewString(), Name: name}
	if err := s.Repo.CreateGroup(ctx, g); err != nil {
		return model.Group{}, err
	}
	return g, nil
}

func (s *UserService) AddToGroup(ctx context.Context, actorID, userID, groupID string) error {
	if err := s.requireSuperuser(ctx, actorID); err != nil {
		return err
	}
	return s.Repo.AddToGroup(ctx, userID, groupID)
}

func (s *UserService) GrantPermission(ctx context.Context, actorID, userID, codename string) error {
	if err := s.requireSuperuser(ctx, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(codename) == "" {
		return apperr.Invalid("codename cannot be empty")
	}
	return s.Repo.GrantPermission(ctx, userID, codename)
}

func (s *UserService) GrantGroupPermission(ctx context.Context, actorID, groupID, codename string) error {
	if err := s.requireSuperuser(ctx, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(codename) == "" {
		return apperr.Invalid("codename cannot be empty")
	}
	return s.Repo.GrantGroupPermission(ctx, groupID, codename)
}

// PermCodenames lists the model permissions a user holds directly or via groups.
func (s *UserService) PermCodenames(ctx context.Context, userID string) ([]string, error) {
	return s.Repo.PermCodenames(ctx, userID)
}

func (s *UserService) requireSuperuser(ctx context.Context, actorID string) error {
	actor, err := s.Repo.Get(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.IsSuperuser {
		return fmt.Errorf("%w: superuser required", apperr.ErrForbidden)
	}
	return nil
}
