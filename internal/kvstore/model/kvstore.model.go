package model

const (
	TypeText    = "text"
	TypeDate    = "date"
	TypeMoney   = "money"
	TypeNumeric = "numeric"
)

type Item struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id,omitempty"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	KVType      string `json:"kv_type"`
	KVFormat    string `json:"kv_format"`
	KVInherited bool   `json:"kv_inherited"`
}

func ValidType(t string) bool {
	switch t {
	case TypeText, TypeDate, TypeMoney, TypeNumeric:
		return true
	}
	return false
}
