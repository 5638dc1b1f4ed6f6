package corepipe

import (
	"net/url"
	"strconv"

	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// ParseEndpointURL parses a single URL-like form into an EndpointDescriptor.
// Scheme determines the variant: file:// or empty -> File, content:// ->
// Content, srt:// -> SRT, rtmp(s|t|ts)?:// -> RTMP (spec §6.5).
func ParseEndpointURL(raw string) (EndpointDescriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return EndpointDescriptor{}, corepipeerrors.New(corepipeerrors.Config, "endpoint.parse", err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if path == "" {
			path = raw
		}
		return EndpointDescriptor{Kind: EndpointFile, Path: path}, nil

	case "content":
		return EndpointDescriptor{Kind: EndpointContent, URI: raw}, nil

	case "srt":
		d := EndpointDescriptor{
			Kind:    EndpointSRT,
			SRTHost: u.Hostname(),
		}
		if u.Port() != "" {
			port, err := strconv.Atoi(u.Port())
			if err != nil {
				return EndpointDescriptor{}, corepipeerrors.New(corepipeerrors.Config, "endpoint.parse.srt-port", err)
			}
			d.SRTPort = port
		}
		q := u.Query()
		d.SRTStreamID = q.Get("streamid")
		d.SRTPassphrase = q.Get("passphrase")
		if v := q.Get("latency_ms"); v != "" {
			d.SRTLatencyMs, _ = strconv.Atoi(v)
		}
		if v := q.Get("connection_timeout_ms"); v != "" {
			d.SRTConnectTimeoutMs, _ = strconv.Atoi(v)
		}
		return d, nil

	case "rtmp", "rtmps", "rtmpt", "rtmpts":
		return EndpointDescriptor{Kind: EndpointRTMP, RTMPURL: raw}, nil

	default:
		return EndpointDescriptor{}, corepipeerrors.New(corepipeerrors.Unsupported, "endpoint.parse.scheme", nil)
	}
}
