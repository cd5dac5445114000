// SPDX-License-Identifier: MIT

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownApp reports a reachable upstream whose appName matches no
// supported variant.
var ErrUnknownApp = errors.New("upstream: unrecognized application")

// DetectType identifies the upstream variant by calling system-status and
// inspecting appName. Sonarr-family apps answer under /api/v3; when that
// probe 404s, the /api/v1 fallback catches Prowlarr. Auth and transport
// failures propagate classified so callers can tell "wrong key" from "not a
// supported app".
func DetectType(ctx context.Context, baseURL, apiKey string, opts ...Option) (Type, *SystemStatus, error) {
	probe := New(baseURL, apiKey, TypeSonarr, opts...)
	status, err := probe.SystemStatus(ctx)
	if errors.Is(err, ErrNotFound) {
		fallback := New(baseURL, apiKey, TypeProwlarr, opts...)
		status, err = fallback.SystemStatus(ctx)
	}
	if err != nil {
		return TypeUnknown, nil, err
	}

	typ := typeFromAppName(status.AppName)
	if typ == TypeUnknown {
		return TypeUnknown, status, fmt.Errorf("%w: appName %q", ErrUnknownApp, status.AppName)
	}
	return typ, status, nil
}

func typeFromAppName(appName string) Type {
	name := strings.ToLower(strings.TrimSpace(appName))
	switch {
	case strings.Contains(name, "sonarr"):
		return TypeSonarr
	case strings.Contains(name, "radarr"):
		return TypeRadarr
	case strings.Contains(name, "whisparr"):
		return TypeWhisparr
	case strings.Contains(name, "prowlarr"):
		return TypeProwlarr
	default:
		return TypeUnknown
	}
}
