package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/models"
)

// DefaultSessionTTL applies to tokens that carry no readable expiry.
const DefaultSessionTTL = 24 * time.Hour

var (
	ErrNoSession      = errors.New("no stored session")
	ErrSessionExpired = errors.New("session token already expired")
)

// SessionStore keeps the signed-in session of one device in Redis.
type SessionStore struct {
	client   *redis.Client
	deviceID string
	logger   *logrus.Logger
}

func NewSessionStore(client *redis.Client, deviceID string, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		client:   client,
		deviceID: deviceID,
		logger:   logger,
	}
}

func (s *SessionStore) key() string {
	return fmt.Sprintf("session:%s", s.deviceID)
}

func (s *SessionStore) Save(ctx context.Context, session models.Session) error {
	if session.Token == "" {
		return fmt.Errorf("session token is empty")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.ExpiresAt.IsZero() {
		exp, err := TokenExpiry(session.Token)
		if err != nil {
			s.logger.WithError(err).Debug("Token expiry unreadable, using default session TTL")
			exp = time.Now().Add(DefaultSessionTTL)
		}
		session.ExpiresAt = exp
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}

	dataJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(), dataJSON, ttl).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store session")
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"device":     s.deviceID,
		"contact":    session.Contact.Masked(),
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	}).Info("Session stored")
	return nil
}

func (s *SessionStore) Get(ctx context.Context) (*models.Session, error) {
	dataJSON, err := s.client.Get(ctx, s.key()).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(dataJSON), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (s *SessionStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
