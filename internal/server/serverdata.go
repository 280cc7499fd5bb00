package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mori-project/mori/internal/protocol"
	"github.com/mori-project/mori/internal/session"
)

const serverDataTimeout = 10 * time.Second

// ServerDataError reports a server-data response the server refused or that
// lacked an address.
type ServerDataError struct {
	URL    string
	Status int
	Err    error
}

func (e *ServerDataError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server data %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("server data %s: %v", e.URL, e.Err)
}

func (e *ServerDataError) Unwrap() error { return e.Err }

// FetchServerData asks the server-data endpoint where to connect. The reply
// is a text block carrying at least server and port.
func FetchServerData(ctx context.Context, client *http.Client, dataURL string) (session.ServerData, error) {
	ctx, cancel := context.WithTimeout(ctx, serverDataTimeout)
	defer cancel()

	form := url.Values{"version": {session.GameVersion}, "platform": {"0"}, "protocol": {fmt.Sprint(session.ProtocolVersion)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dataURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "UbiServices_SDK_2022.Release.9_PC64_ansi_static")

	resp, err := client.Do(req)
	if err != nil {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Err: err}
	}
	return parseServerData(dataURL, string(body))
}

func parseServerData(dataURL, body string) (session.ServerData, error) {
	b := protocol.ParseTextBlock(body)
	host, err := b.Require("server")
	if err != nil {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Err: err}
	}
	port, err := b.Uint32("port")
	if err != nil {
		return session.ServerData{}, &ServerDataError{URL: dataURL, Err: err}
	}
	return session.ServerData{Host: host, Port: int(port)}, nil
}
