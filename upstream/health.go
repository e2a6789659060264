package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/tarik02/apiproxy/api"
	"golang.org/x/mod/semver"
)

func (p *Proxy) Health(ctx context.Context) api.Envelope {
	env := p.Call(ctx, OpHealth, Call{})
	if !env.Success || env.Fallback || p.target.MinVersion == "" {
		return env
	}

	h, err := api.Decode[api.Health](env)
	if err != nil {
		return api.Fail(api.KindFormat, env.HTTPStatus, api.MsgInvalidFormat)
	}
	if h.Version == "" {
		return env
	}

	if !IsCompatibleVersion(h.Version, p.target.MinVersion) {
		return api.Fail(api.KindProtocol, env.HTTPStatus, fmt.Sprintf("upstream version %s is older than required %s", h.Version, p.target.MinVersion))
	}

	return env
}

// IsCompatibleVersion reports whether version >= min. Non-semver versions are
// accepted since Flask backends often report free-form strings.
func IsCompatibleVersion(version, min string) bool {
	v, m := canonicalVersion(version), canonicalVersion(min)
	if !semver.IsValid(v) || !semver.IsValid(m) {
		return true
	}
	return semver.Compare(v, m) >= 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
