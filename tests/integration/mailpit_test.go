//go:build integration

package integration

import (
	"net/http"
	"net/url"
	"regexp"
	"testing"
	"time"
)

var codePattern = regexp.MustCompile(`>(\d{6})<`)

// latestCode polls mailpit for the newest verification email sent to
// email and returns the code in it.
func latestCode(t *testing.T, email string) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if code, ok := findCode(t, email); ok {
			return code
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("no verification email for %s", email)
	return ""
}

func findCode(t *testing.T, email string) (string, bool) {
	t.Helper()

	resp, err := httpClient.Get(mailpitURL + "/api/v1/search?query=" + url.QueryEscape("to:"+email))
	if err != nil {
		t.Fatalf("mailpit search: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	list := decodeJSON[struct {
		Messages []struct {
			ID string `json:"ID"`
		} `json:"messages"`
	}](t, resp)
	if len(list.Messages) == 0 {
		return "", false
	}

	// Newest first.
	msg, err := httpClient.Get(mailpitURL + "/api/v1/message/" + list.Messages[0].ID)
	if err != nil {
		t.Fatalf("mailpit message: %v", err)
	}
	defer msg.Body.Close()
	expectStatus(t, msg, http.StatusOK)

	body := decodeJSON[struct {
		HTML string `json:"HTML"`
	}](t, msg)
	m := codePattern.FindStringSubmatch(body.HTML)
	if m == nil {
		t.Fatalf("no code in message %s", list.Messages[0].ID)
	}
	return m[1], true
}
