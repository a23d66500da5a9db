package emailsvc

import (
	"context"
	"net/mail"
	"strings"
	"testing"

	"github.com/preston-56/lms-backend/core"
	testutil "github.com/preston-56/lms-backend/tests"
)

var testMessage = core.EmailMessage{
	To:      []mail.Address{{Name: "Awe", Address: "awe@test.cd"}},
	Subject: "Test",
	BodyStr: "hello there",
}

func TestConsoleService_SendMessage(t *testing.T) {
	conf := testutil.NewConfig(t.TempDir())
	svc := NewConsoleServiceMock(conf)

	t.Run("captures rendered message", func(t *testing.T) {
		ClearSentMessages()

		msg := testMessage
		if err := svc.SendMessage(context.Background(), &msg); err != nil {
			t.Fatalf("SendMessage() failed: %v", err)
		}
		if len(SentMessages) != 1 {
			t.Fatalf("SentMessages = %d, want 1", len(SentMessages))
		}
		sent := SentMessages[0]
		if sent.To[0].Address != "awe@test.cd" {
			t.Errorf("To = %s, want awe@test.cd", sent.To[0].Address)
		}
		if !strings.Contains(sent.TextContent, "hello there") {
			t.Errorf("TextContent = %q, want body text", sent.TextContent)
		}
	})

	t.Run("skips message without recipients", func(t *testing.T) {
		ClearSentMessages()

		msg := testMessage
		msg.To = nil
		if err := svc.SendMessage(context.Background(), &msg); err != nil {
			t.Fatalf("SendMessage() failed: %v", err)
		}
		if len(SentMessages) != 0 {
			t.Errorf("SentMessages = %d, want 0", len(SentMessages))
		}
	})

	t.Run("skips message without content", func(t *testing.T) {
		ClearSentMessages()

		msg := testMessage
		msg.BodyStr = ""
		msg.TextContent = ""
		if err := svc.SendMessage(context.Background(), &msg); err != nil {
			t.Fatalf("SendMessage() failed: %v", err)
		}
		if len(SentMessages) != 0 {
			t.Errorf("SentMessages = %d, want 0", len(SentMessages))
		}
	})

	t.Run("unknown template is an error", func(t *testing.T) {
		ClearSentMessages()

		msg := testMessage
		msg.BodyStr = ""
		msg.TemplateName = "lol"
		if err := svc.SendMessage(context.Background(), &msg); err == nil {
			t.Error("SendMessage() should fail on an unknown template")
		}
	})
}
