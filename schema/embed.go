package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// TestsAssetType marks the embed asset holding test code.
const TestsAssetType = "tests"

// Embed is the server-supplied payload a project is constructed from.
type Embed struct {
	ID        EmbedID           `json:"id" validate:"required"`
	Slug      Slug              `json:"slug,omitempty"`
	Name      string            `json:"name,omitempty"`
	EmbedType EmbedType         `json:"embedType,omitempty"`
	Mode      string            `json:"_mode,omitempty"`
	Meta      EmbedMeta         `json:"meta"`
	Code      map[string]string `json:"code" validate:"dive,keys,required,endkeys"`
	Assets    []Asset           `json:"assets,omitempty" validate:"dive"`
	Document  *Document         `json:"_document,omitempty"`
	Creator   string            `json:"creator,omitempty"`
}

// EmbedMeta carries the language and entry point of an embed.
type EmbedMeta struct {
	Language string `json:"language" validate:"required"`
	MainFile string `json:"mainFile,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Asset is an auxiliary embed attachment such as test code.
type Asset struct {
	Type     string         `json:"type" validate:"required"`
	Data     string         `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Document is a saved derivative of an embed holding a user's file contents.
type Document struct {
	ID   DocumentID        `json:"id"`
	Code map[string]string `json:"code"`
}

// DocumentRef points at a document created by a save.
type DocumentRef struct {
	ID   DocumentID        `json:"id"`
	Code map[string]string `json:"code,omitempty"`
}

// SaveEmbedRequest carries the serialized project files.
type SaveEmbedRequest struct {
	Code map[string]string `json:"code"`
}

// SaveEmbedResponse mirrors the persistence API result shape.
type SaveEmbedResponse struct {
	Error    string       `json:"error,omitempty"`
	Document *DocumentRef `json:"document,omitempty"`
}

var validate = validator.New()

// ValidateEmbed checks an embed payload using struct tags.
func ValidateEmbed(embed Embed) error {
	if err := validate.Struct(embed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmbed, err)
	}
	if embed.EmbedType != "" && !IsValidEmbedType(embed.EmbedType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedEmbedType, embed.EmbedType)
	}
	return nil
}

// TypeOrDefault returns the embed type, defaulting to sourcebox.
func (e Embed) TypeOrDefault() EmbedType {
	if e.EmbedType == "" {
		return EmbedSourcebox
	}
	return e.EmbedType
}

// TestsAsset returns the first non-empty tests asset.
func (e Embed) TestsAsset() (Asset, bool) {
	for _, asset := range e.Assets {
		if asset.Type == TestsAssetType && asset.Data != "" {
			return asset, true
		}
	}
	return Asset{}, false
}

// Clone returns a deep copy of the embed.
func (e Embed) Clone() Embed {
	out := e
	out.Code = cloneCode(e.Code)
	if len(e.Assets) > 0 {
		out.Assets = make([]Asset, len(e.Assets))
		for i, asset := range e.Assets {
			out.Assets[i] = asset
			if asset.Metadata != nil {
				meta := make(map[string]any, len(asset.Metadata))
				for k, v := range asset.Metadata {
					meta[k] = v
				}
				out.Assets[i].Metadata = meta
			}
		}
	}
	if e.Document != nil {
		doc := *e.Document
		doc.Code = cloneCode(e.Document.Code)
		out.Document = &doc
	}
	return out
}

func cloneCode(code map[string]string) map[string]string {
	if code == nil {
		return nil
	}
	out := make(map[string]string, len(code))
	for k, v := range code {
		out[k] = v
	}
	return out
}

// APIResponse is the result of an update or delete call. A non-empty Error
// is a server-side refusal rather than a transport failure.
type APIResponse struct {
	Error string `json:"error,omitempty"`
}
