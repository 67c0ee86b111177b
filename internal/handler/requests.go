package handler

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	"studydesk/internal/httputil"
)

// Names are not validated here: the tree rejects them with ErrInvalidName
// and records the failure in its error slot.

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type createDocumentRequest struct {
	Name     string          `json:"name"`
	ParentID *string         `json:"parent_id"`
	Kind     models.FileKind `json:"kind,omitempty"`
}

func (r *createDocumentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Kind, validation.In(models.KindPDF, models.KindAudio, models.KindOther)),
	)
}

type renameRequest struct {
	Name string `json:"name"`
}

type moveRequest struct {
	ParentID httputil.OptionalString `json:"parent_id"` // null = root
}

func (r *moveRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ParentID, validation.By(func(v any) error {
			if o, _ := v.(httputil.OptionalString); !o.Present {
				return errors.New("is required; use null to move to the root")
			}
			return nil
		})),
	)
}

type moveBeforeRequest struct {
	BeforeID string `json:"before_id"`
}

func (r *moveBeforeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.BeforeID, validation.Required),
	)
}

type deleteResponse struct {
	RemovedIDs []string `json:"removed_ids"`
}

// invalid marks a request validation failure as domain.ErrValidation
func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}
