package eventserver

import (
	"encoding/json"
	"regexp"
	"strings"
)

// atPlaceholder matches the platform's @-mention placeholders left inside
// message text, e.g. @_user_1.
var atPlaceholder = regexp.MustCompile(`@_user_\d+`)

// richPost is the rich-text message content shape: paragraphs of tagged
// inline elements.
type richPost struct {
	Title   string `json:"title"`
	Content [][]struct {
		Tag      string `json:"tag"`
		Text     string `json:"text"`
		UserName string `json:"user_name"`
	} `json:"content"`
}

// extractMessageText turns a message content field into the user's plain
// question. content may be plain text, JSON {"text": ...}, or a rich post;
// mention placeholders and names are stripped.
func extractMessageText(content string, mentionNames []string) string {
	text := content

	var textWrapper struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &textWrapper); err == nil && textWrapper.Text != "" {
		text = textWrapper.Text
	} else {
		var post richPost
		if err := json.Unmarshal([]byte(content), &post); err == nil && len(post.Content) > 0 {
			var sb strings.Builder
			for _, paragraph := range post.Content {
				for _, element := range paragraph {
					if element.Tag == "text" {
						sb.WriteString(element.Text)
					}
				}
				sb.WriteString(" ")
			}
			text = sb.String()
		}
	}

	text = atPlaceholder.ReplaceAllString(text, "")
	for _, name := range mentionNames {
		if name != "" {
			text = strings.ReplaceAll(text, "@"+name, "")
			text = strings.ReplaceAll(text, name, "")
		}
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
