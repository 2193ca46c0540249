package image

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// FetchError is returned when the remote service answers with anything other
// than 200. Details holds the decoded JSON body, or nil when the body was not
// JSON; Body always holds the raw text.
type FetchError struct {
	StatusCode int
	Details    any
	Body       string
}

func newFetchError(status int, body []byte) *FetchError {
	e := &FetchError{StatusCode: status, Body: string(body)}
	if !json.Valid(body) {
		return e
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var details any
	if err := dec.Decode(&details); err == nil {
		e.Details = details
	}
	return e
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("stability: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if text := e.text(); text != "" {
		msg += ": " + text
	}
	return msg
}

// text renders the body as the service sent it, minus insignificant JSON
// whitespace.
func (e *FetchError) text() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(e.Body)); err == nil {
		return buf.String()
	}
	return e.Body
}
