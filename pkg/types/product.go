package types

// ProductHandle identifies a produced catalog store to downstream
// consumers: the ledger product ID and the store's filesystem path.
type ProductHandle struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}
