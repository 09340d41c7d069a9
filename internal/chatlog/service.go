package chatlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"support-calls/internal/auth"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("chatlog: invalid argument")
	ErrNotFound        = errors.New("chatlog: message not found")
)

// Repository is the persistence contract for chat messages.
//
// Update MUST run fn while holding an exclusive lock on the row so concurrent
// amendments serialize.
type Repository interface {
	Insert(ctx context.Context, m Message) error
	Get(ctx context.Context, id string) (Message, error)
	Update(ctx context.Context, id string, fn func(*Message) error) (Message, error)
	Delete(ctx context.Context, id string) error
	ListByEmail(ctx context.Context, email string) ([]Message, error)
	ListAll(ctx context.Context) ([]Message, error)
}

type Service struct {
	repo Repository
	Now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, Now: time.Now}
}

// AppendCustomerMessage records a message from the principal. name falls back
// to the principal's display name.
func (s *Service) AppendCustomerMessage(ctx context.Context, p auth.Principal, name, body, imageURL string) (Message, error) {
	if !p.Valid() {
		return Message{}, fmt.Errorf("%w: principal", ErrInvalidArgument)
	}
	body = strings.TrimSpace(body)
	imageURL = strings.TrimSpace(imageURL)
	if body == "" && imageURL == "" {
		return Message{}, fmt.Errorf("%w: message or image required", ErrInvalidArgument)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = p.Name
	}

	now := s.Now().UTC()
	m := Message{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     auth.NormalizeEmail(p.Email),
		Body:      body,
		ImageURL:  imageURL,
		Status:    StatusUnread,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// AppendReply adds a reply turn to message id and marks it Replied. Prior turns
// are kept.
func (s *Service) AppendReply(ctx context.Context, id, text, imageURL string) (Message, error) {
	text = strings.TrimSpace(text)
	imageURL = strings.TrimSpace(imageURL)
	if id == "" || (text == "" && imageURL == "") {
		return Message{}, ErrInvalidArgument
	}
	now := s.Now().UTC()
	return s.repo.Update(ctx, id, func(m *Message) error {
		if text != "" {
			m.Reply = appendTurn(m.Reply, text)
		}
		if imageURL != "" {
			m.ReplyImageURL = imageURL
		}
		m.Status = StatusReplied
		m.UpdatedAt = now
		if text != "" {
			m.RepliedAt = now
		}
		return nil
	})
}

func (s *Service) SetStatus(ctx context.Context, id string, status Status) (Message, error) {
	if id == "" || !status.Valid() {
		return Message{}, ErrInvalidArgument
	}
	now := s.Now().UTC()
	return s.repo.Update(ctx, id, func(m *Message) error {
		m.Status = status
		m.UpdatedAt = now
		return nil
	})
}

// Delete is the moderation path; nothing else removes messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidArgument
	}
	return s.repo.Delete(ctx, id)
}

// ListForCustomer returns the customer's thread oldest-first.
func (s *Service) ListForCustomer(ctx context.Context, email string) ([]Message, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidArgument
	}
	msgs, err := s.repo.ListByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(msgs)
	return msgs, nil
}

// ListAll returns every message newest-first.
func (s *Service) ListAll(ctx context.Context) ([]Message, error) {
	msgs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.After(msgs[j].CreatedAt) })
	return msgs, nil
}

// ListByParty groups messages by customer. Each group is oldest-first; groups
// are ordered by most recent activity, newest first.
func (s *Service) ListByParty(ctx context.Context) ([]Conversation, error) {
	msgs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByParty(msgs), nil
}

func GroupByParty(msgs []Message) []Conversation {
	index := map[string]int{}
	out := make([]Conversation, 0)
	for _, m := range msgs {
		i, ok := index[m.Email]
		if !ok {
			i = len(out)
			index[m.Email] = i
			out = append(out, Conversation{Email: m.Email})
		}
		c := &out[i]
		c.Messages = append(c.Messages, m)
		if m.Status == StatusUnread {
			c.Unread++
		}
		if at := m.LastActivity(); at.After(c.LastActivity) {
			c.LastActivity = at
		}
	}
	for i := range out {
		sortOldestFirst(out[i].Messages)
		// Latest non-empty name wins; customers can change display names.
		for _, m := range out[i].Messages {
			if m.Name != "" {
				out[i].Name = m.Name
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

func sortOldestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}
