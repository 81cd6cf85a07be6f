package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

var ErrNoFingerprint = errors.New("sdp has no dtls fingerprint")

type Fingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters mirrors what SFU servers expect on transport connect.
type DTLSParameters struct {
	Role         string        `json:"role"`
	Fingerprints []Fingerprint `json:"fingerprints"`
	SDP          string        `json:"sdp"`
}

func parseFingerprint(v string) (Fingerprint, bool) {
	alg, val, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok {
		return Fingerprint{}, false
	}
	return Fingerprint{Algorithm: strings.ToLower(alg), Value: strings.ToUpper(val)}, true
}

// dtlsRole maps the a=setup attribute to a DTLS role.
func dtlsRole(setup string) string {
	switch setup {
	case "active":
		return "client"
	case "passive":
		return "server"
	default:
		return "auto"
	}
}

func dtlsParameters(raw string) (json.RawMessage, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	params := DTLSParameters{Role: "auto", SDP: raw}
	seen := make(map[string]bool)
	add := func(v string) {
		if fp, ok := parseFingerprint(v); ok && !seen[fp.Value] {
			seen[fp.Value] = true
			params.Fingerprints = append(params.Fingerprints, fp)
		}
	}

	if v, ok := sd.Attribute("fingerprint"); ok {
		add(v)
	}
	for _, md := range sd.MediaDescriptions {
		if v, ok := md.Attribute("fingerprint"); ok {
			add(v)
		}
		if v, ok := md.Attribute("setup"); ok {
			params.Role = dtlsRole(v)
		}
	}
	if len(params.Fingerprints) == 0 {
		return nil, ErrNoFingerprint
	}
	return json.Marshal(params)
}
