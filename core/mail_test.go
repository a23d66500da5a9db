package core

import (
	"net/mail"
	"strings"
	"testing"
)

func TestEmailMessage_Render(t *testing.T) {
	type noticeData struct {
		Name         string
		LastActive   string
		DaysInactive int
		AppName      string
	}

	tests := []struct {
		name         string
		msg          EmailMessage
		wantContains []string
		wantErr      bool
	}{
		{
			name: "plain body passes through",
			msg:  EmailMessage{BodyStr: "hello there"},
			wantContains: []string{
				"hello there",
			},
		},
		{
			name: "inactivity notice",
			msg: EmailMessage{
				To:           []mail.Address{{Name: "Awe", Address: "awe@test.cd"}},
				TemplateName: "inactivity_notice",
				TemplateData: noticeData{Name: "Awe", LastActive: "2024-04-01", DaysInactive: 61, AppName: "LMS"},
			},
			wantContains: []string{"Awe", "2024-04-01", "61"},
		},
		{
			name: "never active notice",
			msg: EmailMessage{
				To:           []mail.Address{{Name: "Meh", Address: "meh@test.cd"}},
				TemplateName: "inactivity_notice_never",
				TemplateData: noticeData{Name: "Meh", AppName: "LMS"},
			},
			wantContains: []string{"Meh", "LMS"},
		},
		{
			name:    "unknown template",
			msg:     EmailMessage{TemplateName: "lol"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Render()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Render() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Render() failed: %v", err)
			}
			if !tt.msg.HasContent() {
				t.Fatal("Render() produced no content")
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(tt.msg.TextContent, want) {
					t.Errorf("Render() content %q does not contain %q", tt.msg.TextContent, want)
				}
			}
		})
	}
}

func TestEmailMessage_noTemplate(t *testing.T) {
	msg := EmailMessage{To: []mail.Address{{Address: "awe@test.cd"}}}
	if err := msg.Render(); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if msg.HasContent() {
		t.Error("Render() of an empty message should produce no content")
	}
	if !msg.HasRecipients() {
		t.Error("HasRecipients() = false, want true")
	}
}
