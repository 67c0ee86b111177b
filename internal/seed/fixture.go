// Package seed loads YAML fixture trees and writes them straight through a
// persistence gateway, the way an external upload would.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
)

// Fixture is one owner's tree as written in YAML:
//
//	owner: demo-student
//	items:
//	  - folder: Lectures
//	    children:
//	      - document: Week1.pdf
//	  - document: Syllabus.pdf
type Fixture struct {
	Owner string `yaml:"owner"`
	Items []Item `yaml:"items"`

	path string
}

// Item is a folder or a document; exactly one of the two names is set
type Item struct {
	Folder   string          `yaml:"folder,omitempty"`
	Document string          `yaml:"document,omitempty"`
	Kind     models.FileKind `yaml:"kind,omitempty"`
	Children []Item          `yaml:"children,omitempty"`
}

// Name returns whichever name the item carries
func (it Item) Name() string {
	if it.Folder != "" {
		return it.Folder
	}
	return it.Document
}

// Validate implements validation.Validatable
func (it Item) Validate() error {
	if (it.Folder == "") == (it.Document == "") {
		return errors.New("exactly one of folder or document must be set")
	}
	if it.Document != "" && len(it.Children) > 0 {
		return fmt.Errorf("document %q cannot have children", it.Document)
	}
	return validation.ValidateStruct(&it,
		validation.Field(&it.Kind, validation.In(models.KindPDF, models.KindAudio, models.KindOther)),
		validation.Field(&it.Children),
	)
}

// Validate implements validation.Validatable
func (f *Fixture) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Owner, validation.Required),
		validation.Field(&f.Items),
	)
}

// Parse decodes and validates one fixture
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// LoadAll reads and validates every fixture file concurrently
func LoadAll(ctx context.Context, paths []string) ([]*Fixture, error) {
	fixtures := make([]*Fixture, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			f, err := Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			f.path = path
			fixtures[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fixtures, nil
}

// Apply creates the fixture's items through gw, parents before children.
// It returns the number of items created.
func Apply(ctx context.Context, gw treeRepo.PersistenceGateway, f *Fixture, logger *slog.Logger) (int, error) {
	created := 0
	var walk func(items []Item, parentID *string) error
	walk = func(items []Item, parentID *string) error {
		for _, it := range items {
			req := &treeRepo.CreateRequest{
				OwnerID:  f.Owner,
				Name:     it.Name(),
				ParentID: parentID,
				Kind:     it.Kind,
			}

			var (
				id  string
				err error
			)
			if it.Folder != "" {
				id, err = gw.CreateFolder(ctx, req)
			} else {
				id, err = gw.CreateDocument(ctx, req)
			}
			if err != nil {
				return fmt.Errorf("create %q: %w", it.Name(), err)
			}
			created++
			logger.Debug("seeded item", "owner_id", f.Owner, "name", it.Name(), "id", id)

			if err := walk(it.Children, &id); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(f.Items, nil); err != nil {
		return created, err
	}
	logger.Info("fixture applied", "owner_id", f.Owner, "path", f.path, "items", created)
	return created, nil
}
