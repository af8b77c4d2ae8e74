package plugin

import (
	"encoding/json"

	"github.com/bnema/lattice/internal/annotations"
)

// Request is a plugin-to-host RPC message. Correlated by ID; the flat
// field set mirrors the wire shape, with unused fields left empty per
// request type.
type Request struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id"`
	Path    string          `json:"path,omitempty"`
	NewPath string          `json:"newPath,omitempty"`
	Content string          `json:"content,omitempty"`
	Key     string          `json:"key,omitempty"`
	Value   string          `json:"value,omitempty"`
	URL     string          `json:"url,omitempty"`
	FileID  string          `json:"fileId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one request. OK selects Result or Error.
type Response struct {
	ID     int64  `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HostAPI is the workspace surface the bridge mediates. Implemented by
// the embedding application over the external file-system adapter.
type HostAPI interface {
	ListFiles() ([]string, error)
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	CreateFile(path, content string) error
	DeleteFile(path string) error
	RenameFile(oldPath, newPath string) error
	ActiveFile() string
	AssetURL(path string) (string, error)
}

// Fetcher performs a gated network request on behalf of a plugin.
type Fetcher func(url string) (string, error)

// Bridge dispatches plugin requests against the host services, checking
// the capability gate first. Every request gets a response; failures are
// {ok: false, error} rather than raised.
type Bridge struct {
	api         HostAPI
	gate        *Gate
	storage     *Storage
	annotations *annotations.Store
	fetch       Fetcher
}

// NewBridge wires the bridge's collaborators.
func NewBridge(api HostAPI, gate *Gate, storage *Storage, store *annotations.Store, fetch Fetcher) *Bridge {
	return &Bridge{api: api, gate: gate, storage: storage, annotations: store, fetch: fetch}
}

// Handle processes one request for a plugin. Capabilities are checked at
// the host end; unknown request types are rejected.
func (b *Bridge) Handle(m *Manifest, req Request) Response {
	result, err := b.dispatch(m, req)
	if err != nil {
		return Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

func (b *Bridge) dispatch(m *Manifest, req Request) (any, error) {
	switch req.Type {
	case "workspace.listFiles":
		if err := b.gate.Require(m, PermFileRead, "workspace.listFiles"); err != nil {
			return nil, err
		}
		return b.api.ListFiles()

	case "workspace.readFile":
		if err := b.gate.Require(m, PermFileRead, "workspace.readFile"); err != nil {
			return nil, err
		}
		return b.api.ReadFile(req.Path)

	case "workspace.writeFile":
		if err := b.gate.Require(m, PermFileWrite, "workspace.writeFile"); err != nil {
			return nil, err
		}
		return nil, b.api.WriteFile(req.Path, req.Content)

	case "workspace.createFile":
		if err := b.gate.Require(m, PermFileWrite, "workspace.createFile"); err != nil {
			return nil, err
		}
		return nil, b.api.CreateFile(req.Path, req.Content)

	case "workspace.deleteFile":
		if err := b.gate.Require(m, PermFileWrite, "workspace.deleteFile"); err != nil {
			return nil, err
		}
		return nil, b.api.DeleteFile(req.Path)

	case "workspace.renameFile":
		if err := b.gate.Require(m, PermFileWrite, "workspace.renameFile"); err != nil {
			return nil, err
		}
		return nil, b.api.RenameFile(req.Path, req.NewPath)

	case "workspace.activeFile":
		if err := b.gate.Require(m, PermFileRead, "workspace.activeFile"); err != nil {
			return nil, err
		}
		return b.api.ActiveFile(), nil

	case "assets.getUrl":
		if err := b.gate.Require(m, PermFileRead, "assets.getUrl"); err != nil {
			return nil, err
		}
		return b.api.AssetURL(req.Path)

	case "annotations.list":
		if err := b.gate.Require(m, PermFileRead, "annotations.list"); err != nil {
			return nil, err
		}
		return b.annotations.List(req.FileID), nil

	case "annotations.add":
		if err := b.gate.Require(m, PermFileWrite, "annotations.add"); err != nil {
			return nil, err
		}
		var ann annotations.Annotation
		if err := json.Unmarshal(req.Payload, &ann); err != nil {
			return nil, err
		}
		return b.annotations.Add(req.FileID, ann)

	case "annotations.update":
		if err := b.gate.Require(m, PermFileWrite, "annotations.update"); err != nil {
			return nil, err
		}
		var ann annotations.Annotation
		if err := json.Unmarshal(req.Payload, &ann); err != nil {
			return nil, err
		}
		return nil, b.annotations.Update(req.FileID, ann)

	case "annotations.remove":
		if err := b.gate.Require(m, PermFileWrite, "annotations.remove"); err != nil {
			return nil, err
		}
		return nil, b.annotations.Remove(req.FileID, req.Value)

	case "storage.get":
		value, ok, err := b.storage.Get(m.ID, req.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return value, nil

	case "storage.set":
		return nil, b.storage.Set(m.ID, req.Key, req.Value)

	case "storage.remove":
		return nil, b.storage.Remove(m.ID, req.Key)

	case "net.fetch":
		if err := b.gate.CheckFetch(m, req.URL); err != nil {
			return nil, err
		}
		return b.fetch(req.URL)
	}
	return nil, errUnknownRequest(req.Type)
}

type errUnknownRequest string

func (e errUnknownRequest) Error() string { return "unknown request type " + string(e) }
