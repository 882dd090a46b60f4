package messenger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"secbrief/internal/config"
)

// larkStub fakes the token and message endpoints and records message posts.
type larkStub struct {
	tokenCalls int
	messages   []map[string]string
	paths      []string
}

func (l *larkStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if strings.HasSuffix(r.URL.Path, "/auth/v3/tenant_access_token/internal") {
			l.tokenCalls++
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-123","expire":7200}`))
			return
		}

		if r.Header.Get("Authorization") != "Bearer t-123" {
			_, _ = w.Write([]byte(`{"code":99991663,"msg":"invalid token"}`))
			return
		}

		body, _ := io.ReadAll(r.Body)
		var message map[string]string
		_ = json.Unmarshal(body, &message)
		l.messages = append(l.messages, message)
		l.paths = append(l.paths, r.URL.Path+"?"+r.URL.RawQuery)

		_, _ = w.Write([]byte(`{"code":0,"msg":"success"}`))
	})
}

func newTestMessenger(t *testing.T) (*Client, *larkStub) {
	t.Helper()
	stub := &larkStub{}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	c, err := NewClient(config.Messenger{
		AppID:     "cli_app",
		AppSecret: "secret",
		BaseURL:   server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, stub
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(config.Messenger{AppID: "id"}); err == nil {
		t.Error("expected error for missing app_secret")
	}
	if _, err := NewClient(config.Messenger{AppSecret: "s"}); err == nil {
		t.Error("expected error for missing app_id")
	}
}

func TestSendTextUsesCachedToken(t *testing.T) {
	c, stub := newTestMessenger(t)
	ctx := context.Background()

	if err := c.SendText(ctx, ReceiverChat, "oc_1", "first"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if err := c.SendText(ctx, ReceiverChat, "oc_1", "second"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	if stub.tokenCalls != 1 {
		t.Errorf("token should be fetched once and cached, got %d calls", stub.tokenCalls)
	}
	if len(stub.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(stub.messages))
	}
	if stub.messages[0]["msg_type"] != "text" || stub.messages[0]["receive_id"] != "oc_1" {
		t.Errorf("unexpected message payload %v", stub.messages[0])
	}
	if !strings.Contains(stub.paths[0], "receive_id_type=chat_id") {
		t.Errorf("chat receiver should set receive_id_type=chat_id: %s", stub.paths[0])
	}
}

func TestSendPostEncodesParagraphs(t *testing.T) {
	c, stub := newTestMessenger(t)

	paragraphs := []PostParagraph{
		{{Tag: "a", Text: "Linked Title", Href: "https://x/1"}},
		{{Tag: "text", Text: "   summary line"}},
	}
	if err := c.SendPost(context.Background(), ReceiverChat, "oc_1", "安全情报日报", paragraphs); err != nil {
		t.Fatalf("SendPost failed: %v", err)
	}

	message := stub.messages[0]
	if message["msg_type"] != "post" {
		t.Errorf("msg_type = %q", message["msg_type"])
	}

	var content struct {
		ZhCN struct {
			Title   string          `json:"title"`
			Content []PostParagraph `json:"content"`
		} `json:"zh_cn"`
	}
	if err := json.Unmarshal([]byte(message["content"]), &content); err != nil {
		t.Fatalf("content not valid JSON: %v", err)
	}
	if content.ZhCN.Title != "安全情报日报" || len(content.ZhCN.Content) != 2 {
		t.Errorf("unexpected post content %+v", content.ZhCN)
	}
	if content.ZhCN.Content[0][0].Href != "https://x/1" {
		t.Errorf("link element lost: %+v", content.ZhCN.Content[0])
	}
}

func TestReplyTargetsMessageThread(t *testing.T) {
	c, stub := newTestMessenger(t)

	if err := c.Reply(context.Background(), "om_42", "回答内容"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if !strings.Contains(stub.paths[0], "/im/v1/messages/om_42/reply") {
		t.Errorf("reply path wrong: %s", stub.paths[0])
	}
	if stub.messages[0]["msg_type"] != "text" {
		t.Errorf("reply msg_type = %q", stub.messages[0]["msg_type"])
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/auth/v3/tenant_access_token/internal") {
			_, _ = w.Write([]byte(`{"code":0,"tenant_access_token":"t","expire":7200}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":230002,"msg":"bot not in chat"}`))
	}))
	defer server.Close()

	c, err := NewClient(config.Messenger{AppID: "a", AppSecret: "s", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	err = c.SendText(context.Background(), ReceiverChat, "oc_x", "hi")
	if err == nil || !strings.Contains(err.Error(), "230002") {
		t.Errorf("expected envelope error, got %v", err)
	}
}
