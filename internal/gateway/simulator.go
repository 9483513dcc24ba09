// ABOUTME: Customer simulator that opens sessions and posts customer messages
// ABOUTME: Drives the fake backend so a console has live traffic to work with

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/store"
)

// CustomerRole is the sender role for simulated customer messages.
const CustomerRole = "customer"

const defaultSimulateInterval = 5 * time.Second

var (
	customerNames = []string{"Ada", "Grace", "Linus", "Barbara", "Ken", "Margaret", "Dennis", "Radia"}
	customerLines = []string{
		"Hi, is anyone there?",
		"I was charged twice for my order.",
		"How do I reset my password?",
		"The app crashes when I open **settings**.",
		"Can I change my delivery address?",
		"Thanks, that helped!",
	}
)

// Simulator plays customers against a Gateway.
type Simulator struct {
	gw       *Gateway
	interval time.Duration
	logger   *slog.Logger
	rand     *rand.Rand
}

// NewSimulator creates a simulator. A non-positive interval selects the default.
func NewSimulator(gw *Gateway, interval time.Duration, logger *slog.Logger) *Simulator {
	if interval <= 0 {
		interval = defaultSimulateInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		gw:       gw,
		interval: interval,
		logger:   logger.With("component", "simulator"),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OpenSession creates a queued session in deptID with an opening customer
// message, and announces it in the lobby.
func (s *Simulator) OpenSession(ctx context.Context, deptID, customerName, opening string) (desk.Session, error) {
	sess := desk.Session{
		SessionID:    "sess-" + uuid.New().String(),
		ChatGroupID:  "cg-" + uuid.New().String(),
		DeptID:       deptID,
		Status:       desk.StatusQueued,
		CustomerName: customerName,
		UpdatedAt:    s.gw.now(),
	}
	if err := s.gw.store.CreateSession(ctx, sess); err != nil {
		return desk.Session{}, fmt.Errorf("creating session: %w", err)
	}
	created, err := s.gw.store.GetSession(ctx, sess.ChatGroupID)
	if err != nil {
		return desk.Session{}, err
	}
	s.logger.Info("customer opened session", "chat_group_id", created.ChatGroupID, "customer", customerName, "department", created.Department)

	s.gw.publishMoveToTop(created)
	if opening != "" {
		if _, err := s.CustomerSay(ctx, created.ChatGroupID, opening); err != nil {
			return created, err
		}
	}
	return created, nil
}

// CustomerSay posts a customer message into a session.
func (s *Simulator) CustomerSay(ctx context.Context, chatGroupID, body string) (store.Message, error) {
	sess, err := s.gw.store.GetSession(ctx, chatGroupID)
	if err != nil {
		return store.Message{}, err
	}
	return s.gw.PostMessage(ctx, chatGroupID, "customer:"+sess.SessionID, CustomerRole, body)
}

// Step performs one random action: opening a new session, or a customer
// message in a live one.
func (s *Simulator) Step(ctx context.Context) error {
	live, err := s.gw.store.ListSessions(ctx, store.SessionFilter{
		Statuses: []desk.Status{desk.StatusQueued, desk.StatusActive, desk.StatusTransferred},
	})
	if err != nil {
		return err
	}

	if len(live) == 0 || s.rand.Intn(3) == 0 {
		depts, err := s.gw.store.ListDepartments(ctx)
		if err != nil {
			return err
		}
		var active []desk.Department
		for _, d := range depts {
			if d.IsActive {
				active = append(active, d)
			}
		}
		if len(active) == 0 {
			return errors.New("no active departments")
		}
		dept := active[s.rand.Intn(len(active))]
		name := customerNames[s.rand.Intn(len(customerNames))]
		_, err = s.OpenSession(ctx, dept.DeptID, name, customerLines[0])
		return err
	}

	target := live[s.rand.Intn(len(live))]
	_, err = s.CustomerSay(ctx, target.ChatGroupID, customerLines[1+s.rand.Intn(len(customerLines)-1)])
	return err
}

// Run steps every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("customer simulator started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("customer simulator stopped")
			return
		case <-ticker.C:
			if err := s.Step(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("simulator step failed", "error", err)
			}
		}
	}
}
