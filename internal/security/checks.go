package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	globalRateScope = "webhook:global"
	tenantRateScope = "webhook:tenant"

	expectedContentType = "application/json"
	signaturePrefix     = "sha256="
)

func (g *Gate) checkIPAllowList(ctx context.Context, req *CheckRequest) (bool, string) {
	ip := clientIP(req)
	if ip == nil {
		return false, "client ip unresolvable"
	}
	if g.cfg.AllowLoopback && ip.IsLoopback() {
		return true, ""
	}
	for _, network := range g.cidrs {
		if network.Contains(ip) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("ip %s not in allow-list", ip)
}

func (g *Gate) checkSignature(ctx context.Context, req *CheckRequest) (bool, string) {
	secret := strings.TrimSpace(g.cfg.WebhookSecret)
	if secret == "" {
		if g.cfg.RequireSignature {
			return false, "signature required but no secret configured"
		}
		g.logg.Warn(ctx, "gate.signature.skipped: no secret configured")
		return true, "secret not configured; check skipped"
	}

	provided := strings.TrimPrefix(strings.TrimSpace(req.Signature), signaturePrefix)
	if provided == "" {
		return false, "signature header missing"
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return false, "signature mismatch"
	}
	return true, ""
}

func (g *Gate) checkTimestamp(ctx context.Context, req *CheckRequest) (bool, string) {
	raw := strings.TrimSpace(req.Timestamp)
	if raw == "" {
		// Not all telephony callers carry a synchronized clock signal;
		// a missing timestamp passes but is logged.
		g.logg.Warn(ctx, "gate.timestamp.missing")
		return true, "timestamp missing; check skipped"
	}

	ts, err := parseTimestamp(raw)
	if err != nil {
		return false, fmt.Sprintf("unparsable timestamp %q", raw)
	}

	skew := g.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.cfg.TimestampSkew {
		return false, fmt.Sprintf("timestamp outside %s freshness window", g.cfg.TimestampSkew)
	}
	return true, ""
}

func (g *Gate) checkRateLimit(ctx context.Context, req *CheckRequest) (bool, string) {
	if g.rate.GlobalLimit > 0 {
		key := g.limiter.RateLimitKey(globalRateScope)
		count, err := g.limiter.IncrWithTTL(ctx, key, g.rate.Window)
		if err != nil {
			return false, "rate limiter unavailable"
		}
		if count > int64(g.rate.GlobalLimit) {
			return false, fmt.Sprintf("global limit of %d/%s exceeded", g.rate.GlobalLimit, g.rate.Window)
		}
	}
	if g.rate.TenantLimit > 0 {
		key := g.limiter.RateLimitKey(tenantRateScope + ":" + req.TenantID.String())
		count, err := g.limiter.IncrWithTTL(ctx, key, g.rate.Window)
		if err != nil {
			return false, "rate limiter unavailable"
		}
		if count > int64(g.rate.TenantLimit) {
			return false, fmt.Sprintf("tenant limit of %d/%s exceeded", g.rate.TenantLimit, g.rate.Window)
		}
	}
	return true, ""
}

func (g *Gate) checkContent(ctx context.Context, req *CheckRequest) (bool, string) {
	mediaType := req.ContentType
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	if !strings.EqualFold(strings.TrimSpace(mediaType), expectedContentType) {
		return false, fmt.Sprintf("unexpected content type %q", req.ContentType)
	}
	if g.cfg.MaxBodyBytes > 0 && int64(len(req.Body)) > g.cfg.MaxBodyBytes {
		return false, fmt.Sprintf("body of %d bytes exceeds %d byte ceiling", len(req.Body), g.cfg.MaxBodyBytes)
	}
	return true, ""
}

// clientIP resolves the originating address, preferring the first hop of
// the trusted forwarding header over the socket peer.
func clientIP(req *CheckRequest) net.IP {
	if header := strings.TrimSpace(req.ForwardedIP); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return net.ParseIP(strings.TrimSpace(host))
}

func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
