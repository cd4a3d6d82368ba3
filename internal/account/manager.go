// Package account manages the session lifecycle: login, resume from the
// persisted identity record, and logout.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pcardosol/orbit/internal/chat"
	"github.com/pcardosol/orbit/internal/rest"
	"github.com/pcardosol/orbit/internal/status"
	"github.com/pcardosol/orbit/internal/store"
)

// Gateway is the slice of the realtime client the manager drives.
type Gateway interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
}

// Manager owns the authenticated-user state. It persists exactly one
// record across restarts: who is logged in plus their session cookies.
// Conversations, contacts and presence always start empty.
type Manager struct {
	rest    *rest.Client
	gateway Gateway
	db      *store.DB
	engine  *chat.Engine
	machine *status.Machine
	logger  *zap.Logger

	mu      sync.Mutex
	current *chat.User
}

// NewManager wires the manager and registers the forced-logout hook: any
// REST call that comes back 401 tears the session down.
func NewManager(rc *rest.Client, gw Gateway, db *store.DB, engine *chat.Engine, machine *status.Machine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		rest:    rc,
		gateway: gw,
		db:      db,
		engine:  engine,
		machine: machine,
		logger:  logger,
	}
	rc.SetOnUnauthorized(func() {
		go m.forceLogout()
	})
	return m
}

// Login authenticates with the backend, persists the identity record and
// brings up the realtime connection.
func (m *Manager) Login(ctx context.Context, username, password string) (chat.User, error) {
	user, err := m.rest.Login(ctx, username, password)
	if err != nil {
		return chat.User{}, fmt.Errorf("login: %w", err)
	}

	if err := m.persistIdentity(user); err != nil {
		// The session works; losing the record only costs the resume.
		m.logger.Warn("failed to persist identity", zap.Error(err))
	}

	m.setCurrent(&user)
	m.transition(status.Connecting)

	if err := m.gateway.Connect(ctx, user.ID); err != nil {
		m.transition(status.Offline)
		return user, fmt.Errorf("gateway connect: %w", err)
	}

	m.logger.Info("logged in", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Resume restores the session from the persisted identity record, if
// any. Returns false when there is nothing to resume or the stored
// cookies were rejected; in both cases the daemon lands in AUTH_REQUIRED
// and waits for an explicit login.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	id, err := m.db.GetIdentity()
	if err != nil {
		return false, fmt.Errorf("load identity: %w", err)
	}
	if id == nil {
		m.transition(status.AuthRequired)
		return false, nil
	}

	if len(id.Cookies) > 0 {
		if err := m.rest.ImportCookies(id.Cookies); err != nil {
			m.logger.Warn("stored cookies unreadable", zap.Error(err))
		}
	}

	m.transition(status.Connecting)

	user, err := m.rest.Me(ctx)
	if errors.Is(err, rest.ErrUnauthorized) {
		m.logger.Info("stored session expired", zap.String("user_id", id.UserID))
		m.teardown()
		return false, nil
	}
	if err != nil {
		m.transition(status.Offline)
		return false, fmt.Errorf("validate session: %w", err)
	}

	m.setCurrent(&user)

	if err := m.gateway.Connect(ctx, user.ID); err != nil {
		m.transition(status.Offline)
		return true, fmt.Errorf("gateway connect: %w", err)
	}

	m.logger.Info("session resumed", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return true, nil
}

// Logout invalidates the server session (best effort) and discards all
// local session state, including the persisted identity record.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.rest.Logout(ctx); err != nil && !errors.Is(err, rest.ErrUnauthorized) {
		m.logger.Warn("server logout failed", zap.Error(err))
	}
	m.teardown()
	return nil
}

// CurrentUser returns the authenticated user, or false if logged out.
func (m *Manager) CurrentUser() (chat.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return chat.User{}, false
	}
	return *m.current, true
}

// forceLogout handles a server-side session invalidation (401 on any
// call). No logout request is sent; the cookie is already dead.
func (m *Manager) forceLogout() {
	if _, ok := m.CurrentUser(); !ok {
		return
	}
	m.logger.Warn("session invalidated by server, logging out")
	m.teardown()
}

func (m *Manager) teardown() {
	m.gateway.Disconnect()
	m.engine.Reset()
	m.rest.ClearCookies()
	if err := m.db.DeleteIdentity(); err != nil {
		m.logger.Warn("failed to delete identity", zap.Error(err))
	}
	m.setCurrent(nil)
	m.transition(status.AuthRequired)
}

func (m *Manager) persistIdentity(user chat.User) error {
	cookies, err := m.rest.ExportCookies()
	if err != nil {
		return fmt.Errorf("export cookies: %w", err)
	}
	return m.db.SaveIdentity(&store.Identity{
		UserID:    user.ID,
		FullName:  user.FullName,
		Username:  user.Username,
		AvatarURL: user.ProfilePicture,
		Cookies:   cookies,
	})
}

func (m *Manager) setCurrent(user *chat.User) {
	m.mu.Lock()
	m.current = user
	m.mu.Unlock()
}

func (m *Manager) transition(to status.State) {
	if m.machine == nil {
		return
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("status transition skipped", zap.Error(err))
	}
}
