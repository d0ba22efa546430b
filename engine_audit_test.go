package goAccounts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
)

func waitEvent(t *testing.T, sink *goAccounts.ChannelSink, eventType string) goAccounts.AuditEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestAuditCarriesConnectionInfo(t *testing.T) {
	sink := goAccounts.NewChannelSink(64)
	f := newEngineFixture(t, func(b *goAccounts.Builder) {
		b.WithAuditSink(sink)
	})
	uid := f.createUser(t, "audited", "audited@example.com")
	user, _ := f.store.FindUserByID(context.Background(), uid)

	res, err := f.engine.LoginWithUser(context.Background(), user, goAccounts.ConnectionInfo{IP: "192.0.2.1", UserAgent: "curl"})
	if err != nil {
		t.Fatalf("LoginWithUser failed: %v", err)
	}

	ev := waitEvent(t, sink, goAccounts.EventLoginSuccess)
	if ev.UserID != uid || ev.SessionID != res.SessionID {
		t.Fatalf("unexpected login event %+v", ev)
	}
	if ev.IP != "192.0.2.1" || ev.UserAgent != "curl" {
		t.Fatalf("connection info missing from event %+v", ev)
	}
}

func TestNotifyIsCountedAndDispatched(t *testing.T) {
	sink := goAccounts.NewChannelSink(8)
	f := newEngineFixture(t, func(b *goAccounts.Builder) {
		b.WithAuditSink(sink)
	})

	f.engine.Notify(context.Background(), goAccounts.Notification{
		Event:    goAccounts.EventCreateUserSuccess,
		Metric:   goAccounts.MetricCreateUserSuccess,
		Success:  true,
		UserID:   "u-1",
		Metadata: map[string]string{"service": "password"},
	})

	ev := waitEvent(t, sink, goAccounts.EventCreateUserSuccess)
	if ev.UserID != "u-1" || ev.Metadata["service"] != "password" {
		t.Fatalf("unexpected notification %+v", ev)
	}
	if got := f.engine.MetricsSnapshot().Counters[goAccounts.MetricCreateUserSuccess]; got != 1 {
		t.Fatalf("expected one create user success, got %d", got)
	}
}

func TestPrepareAndSendMail(t *testing.T) {
	var sent []goAccounts.Mail
	failNext := false
	f := newEngineFixture(t, func(b *goAccounts.Builder) {
		b.WithMailer(goAccounts.MailerFunc(func(_ context.Context, m goAccounts.Mail) error {
			if failNext {
				return errors.New("smtp down")
			}
			sent = append(sent, m)
			return nil
		}))
	})
	user := &goAccounts.User{ID: "u1"}
	user.Services.Password.Hash = "secret"

	mail := f.engine.PrepareMail("u1@example.com", goAccounts.TemplateResetPassword, "tok/en", user)
	if mail.URL != "http://localhost:3000/reset-password/tok%2Fen" {
		t.Fatalf("unexpected url %q", mail.URL)
	}
	if mail.From != "accounts@localhost" {
		t.Fatalf("unexpected from %q", mail.From)
	}
	if mail.User.Services.Password.Hash != "" {
		t.Fatal("mail user not sanitized")
	}

	if err := f.engine.SendMail(context.Background(), mail); err != nil {
		t.Fatalf("SendMail failed: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent mail, got %d", len(sent))
	}

	failNext = true
	if err := f.engine.SendMail(context.Background(), mail); err == nil {
		t.Fatal("expected mailer error to surface")
	}
	if got := f.engine.MetricsSnapshot().Counters[goAccounts.MetricMailSendFailure]; got != 1 {
		t.Fatalf("expected one mail failure, got %d", got)
	}
}
