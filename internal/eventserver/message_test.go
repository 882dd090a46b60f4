package eventserver

import "testing"

func TestExtractMessageTextPlain(t *testing.T) {
	if got := extractMessageText("什么是KEV目录", nil); got != "什么是KEV目录" {
		t.Errorf("plain text mangled: %q", got)
	}
}

func TestExtractMessageTextJSONWrapper(t *testing.T) {
	got := extractMessageText(`{"text":"@_user_1 最近的漏洞有哪些"}`, nil)
	if got != "最近的漏洞有哪些" {
		t.Errorf("got %q", got)
	}
}

func TestExtractMessageTextRichPost(t *testing.T) {
	content := `{"title":"问题","content":[[{"tag":"at","user_name":"bot"},{"tag":"text","text":"介绍一下"}],[{"tag":"text","text":"提示注入"}]]}`
	got := extractMessageText(content, nil)
	if got != "介绍一下 提示注入" {
		t.Errorf("got %q", got)
	}
}

func TestExtractMessageTextStripsMentions(t *testing.T) {
	got := extractMessageText(`{"text":"@安全助手 CVE-2026-1111 详情"}`, []string{"安全助手"})
	if got != "CVE-2026-1111 详情" {
		t.Errorf("got %q", got)
	}

	got = extractMessageText("@_user_1 @_user_2   hello   world ", nil)
	if got != "hello world" {
		t.Errorf("placeholders and whitespace not normalized: %q", got)
	}
}

func TestExtractMessageTextEmpty(t *testing.T) {
	if got := extractMessageText(`{"text":"@_user_1"}`, nil); got != "" {
		t.Errorf("mention-only message should be empty, got %q", got)
	}
}
