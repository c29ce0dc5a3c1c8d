// Package comments turns the flat comment rows stored per service into
// a forest of reply trees and owns the create/reply write paths.
package comments

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mfenwick/go-marketplace/internal/database"
	"github.com/mfenwick/go-marketplace/internal/types"
	"github.com/teris-io/shortid"
)

const maxContentLength = 2000

var (
	ErrAuthRequired   = errors.New("authenticated author required")
	ErrEmptyContent   = errors.New("comment content cannot be empty")
	ErrContentTooLong = errors.New("comment content exceeds maximum length")
	ErrParentMismatch = errors.New("parent comment belongs to a different service")
)

type Threader struct {
	db  database.MarketRepository
	log *log.Logger
	// overridable in tests
	generateShortId func() (string, error)
}

func NewThreader(logger *log.Logger, db database.MarketRepository) *Threader {
	return &Threader{
		db:              db,
		log:             logger,
		generateShortId: shortid.Generate,
	}
}

// Structure links a flat, unordered batch into a forest. The id map is
// built over the whole batch before any child is attached, so a child
// appearing before its parent in the input is still linked. A comment
// whose parent is absent from the batch entirely is dropped. Sibling
// order is input order; no sorting happens here.
func (t *Threader) Structure(flat []*types.Comment) []*types.Comment {
	byId := make(map[string]*types.Comment, len(flat))
	for _, c := range flat {
		c.Replies = make([]*types.Comment, 0)
		byId[c.Id] = c
	}

	forest := make([]*types.Comment, 0, len(flat))
	for _, c := range flat {
		if c.ParentId == "" {
			forest = append(forest, c)
			continue
		}

		parent, ok := byId[c.ParentId]
		if !ok {
			t.log.Printf("dropping comment %q: parent %q not in batch", c.Id, c.ParentId)
			continue
		}
		parent.Replies = append(parent.Replies, c)
	}

	return forest
}

// FetchAndStructure loads every comment for a service and threads it.
// The result set is unbounded; review volume per service is assumed
// small enough not to page.
func (t *Threader) FetchAndStructure(serviceExternalId string) ([]*types.Comment, error) {
	svc, err := t.db.GetServiceByExternalId(serviceExternalId)
	if err != nil {
		return nil, fmt.Errorf("fetch service %q: %w", serviceExternalId, err)
	}

	rows, err := t.db.GetCommentsByServiceId(svc.Id)
	if err != nil {
		return nil, fmt.Errorf("fetch comments for service %q: %w", serviceExternalId, err)
	}

	flat := make([]*types.Comment, len(rows))
	for i, row := range rows {
		c := toApiComment(row, serviceExternalId)
		flat[i] = &c
	}

	return t.Structure(flat), nil
}

// PostComment creates a top-level comment. The author is explicit: the
// caller resolves identity, nothing here reads ambient session state.
func (t *Threader) PostComment(author types.User, serviceExternalId, content string) (types.Comment, error) {
	return t.post(author, serviceExternalId, "", content)
}

// PostReply creates a reply to an existing comment on the same service.
func (t *Threader) PostReply(author types.User, parentExternalId, serviceExternalId, content string) (types.Comment, error) {
	if parentExternalId == "" {
		return types.Comment{}, fmt.Errorf("reply requires a parent comment id")
	}
	return t.post(author, serviceExternalId, parentExternalId, content)
}

func (t *Threader) post(author types.User, serviceExternalId, parentExternalId, content string) (types.Comment, error) {
	if author.Id == 0 {
		return types.Comment{}, ErrAuthRequired
	}

	if err := validateContent(content); err != nil {
		return types.Comment{}, err
	}

	svc, err := t.db.GetServiceByExternalId(serviceExternalId)
	if err != nil {
		return types.Comment{}, fmt.Errorf("fetch service %q: %w", serviceExternalId, err)
	}

	var parentId int
	if parentExternalId != "" {
		parent, err := t.db.GetCommentByExternalId(parentExternalId)
		if err != nil {
			return types.Comment{}, fmt.Errorf("fetch parent comment %q: %w", parentExternalId, err)
		}
		if parent.ServiceId != svc.Id {
			return types.Comment{}, ErrParentMismatch
		}
		parentId = parent.Id
	}

	sid, err := t.generateShortId()
	if err != nil {
		return types.Comment{}, fmt.Errorf("generate comment id: %w", err)
	}

	row, err := t.db.CreateComment(database.CreateCommentParams{
		ServiceId:  svc.Id,
		AuthorId:   author.Id,
		ParentId:   parentId,
		Content:    strings.TrimSpace(content),
		ExternalId: sid,
	})
	if err != nil {
		return types.Comment{}, fmt.Errorf("create comment: %w", err)
	}

	row.ParentExternalId = parentExternalId
	return toApiComment(row, serviceExternalId), nil
}

func validateContent(content string) error {
	content = strings.TrimSpace(content)
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if len(content) > maxContentLength {
		return ErrContentTooLong
	}

	return nil
}

func toApiComment(row database.Comment, serviceExternalId string) types.Comment {
	return types.Comment{
		Id:         row.ExternalId,
		ServiceId:  serviceExternalId,
		Content:    row.Content,
		AuthorId:   row.AuthorId,
		AuthorName: row.AuthorName,
		ParentId:   row.ParentExternalId,
		Replies:    make([]*types.Comment, 0),
		CreatedAt:  row.CreatedAt,
	}
}
