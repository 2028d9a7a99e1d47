package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"

	"ar-engine/internal/download"
	"ar-engine/internal/projector"
)

// ErrUnavailable is returned by a provider that has no position to offer.
var ErrUnavailable = errors.New("location: unavailable")

// Provider reports the current viewer position.
type Provider interface {
	Position(ctx context.Context) (projector.GeoPosition, error)
}

// Static always reports the same position.
type Static projector.GeoPosition

func (s Static) Position(context.Context) (projector.GeoPosition, error) {
	return projector.GeoPosition(s), nil
}

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// GeoIP locates the viewer from their public IP address.
type GeoIP struct {
	db cityReader
	// IP returns the address to look up.
	IP func(ctx context.Context) (net.IP, error)
	closer func() error
}

// OpenGeoIP opens a GeoLite2/GeoIP2 City database. ip resolves the address to look
// up, see PublicIP.
func OpenGeoIP(path string, ip func(ctx context.Context) (net.IP, error)) (*GeoIP, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	return &GeoIP{db: r, IP: ip, closer: r.Close}, nil
}

func (g *GeoIP) Position(ctx context.Context) (projector.GeoPosition, error) {
	ip, err := g.IP(ctx)
	if err != nil {
		return projector.GeoPosition{}, fmt.Errorf("location: %w", err)
	}
	city, err := g.db.City(ip)
	if err != nil {
		return projector.GeoPosition{}, fmt.Errorf("location: %w", err)
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return projector.GeoPosition{}, fmt.Errorf("%w: no location for %s", ErrUnavailable, ip)
	}
	return projector.GeoPosition{Lat: city.Location.Latitude, Lon: city.Location.Longitude}, nil
}

func (g *GeoIP) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// FixedIP resolves to ip.
func FixedIP(ip net.IP) func(context.Context) (net.IP, error) {
	return func(context.Context) (net.IP, error) { return ip, nil }
}

// PublicIP asks an echo service such as https://api.ipify.org for the public
// address of this host.
func PublicIP(client *download.Client, url string) func(context.Context) (net.IP, error) {
	return func(ctx context.Context) (net.IP, error) {
		resp, err := client.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		ip := net.ParseIP(strings.TrimSpace(string(resp.Body)))
		if ip == nil {
			return nil, fmt.Errorf("location: %s returned no address", url)
		}
		return ip, nil
	}
}

// First asks each provider in turn and returns the first position found.
func First(providers ...Provider) Provider {
	return chain(providers)
}

type chain []Provider

func (c chain) Position(ctx context.Context) (projector.GeoPosition, error) {
	var errs []error
	for _, p := range c {
		pos, err := p.Position(ctx)
		if err == nil {
			return pos, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return projector.GeoPosition{}, ErrUnavailable
	}
	return projector.GeoPosition{}, errors.Join(errs...)
}

// Watch polls p every interval until ctx is done and hands each position to fn.
// The first poll happens immediately. Errors are logged and skipped.
func Watch(ctx context.Context, p Provider, every time.Duration, log *slog.Logger, fn func(projector.GeoPosition)) {
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		pos, err := p.Position(ctx)
		if err != nil {
			log.Warn("location_unavailable", "err", err)
		} else {
			fn(pos)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
