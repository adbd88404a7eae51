package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	"panorama-rulefinder/internal/metrics"
	"panorama-rulefinder/internal/model"
	"panorama-rulefinder/internal/panorama"
	"panorama-rulefinder/internal/utils"
)

// ObjectFetcher returns the shared address object tree.
type ObjectFetcher interface {
	FetchAddressObjects(ctx context.Context) (*panorama.Response, error)
}

// Resolution is a search token with both of its representations and the
// address objects either one matched.
type Resolution struct {
	Token   string
	IP      string // empty when the token is a hostname that did not resolve
	FQDN    string // empty when the token is an address without a PTR record
	Objects map[string]string
}

// Resolver maps search tokens to address object names. It holds no state
// between calls; every call fetches the objects again.
type Resolver struct {
	objects ObjectFetcher
	hosts   HostResolver
}

// New returns a Resolver; a nil hosts uses the system resolver.
func New(objects ObjectFetcher, hosts HostResolver) *Resolver {
	if hosts == nil {
		hosts = SystemResolver{}
	}
	return &Resolver{objects: objects, hosts: hosts}
}

// Resolve returns object name -> matched value for token. An empty map is a
// valid answer.
func (r *Resolver) Resolve(ctx context.Context, token string) (map[string]string, error) {
	res, err := r.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return res.Objects, nil
}

// ResolveToken is Resolve that also reports the representations it matched with.
func (r *Resolver) ResolveToken(ctx context.Context, token string) (*Resolution, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("search token must not be empty")
	}

	ip, fqdn := r.Complement(ctx, token)

	resp, err := r.objects.FetchAddressObjects(ctx)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Token:   token,
		IP:      ip,
		FQDN:    fqdn,
		Objects: Match(AddressObjects(resp), ip, fqdn),
	}, nil
}

// Complement classifies token and looks up the representation it lacks.
// Lookup failures leave that side empty.
func (r *Resolver) Complement(ctx context.Context, token string) (ip, fqdn string) {
	if canonical, ok := utils.ParseIPv4Token(token); ok {
		ip = canonical
		if !utils.IsHostAddress(ip) {
			return ip, ""
		}
		name, err := r.hosts.ReverseLookup(ctx, ip)
		if err != nil {
			absorb(err)
			return ip, ""
		}
		return ip, name
	}

	fqdn = strings.TrimSuffix(token, ".")
	addr, err := r.hosts.ForwardLookup(ctx, fqdn)
	if err != nil {
		absorb(err)
		return "", fqdn
	}
	return addr, fqdn
}

func absorb(err error) {
	direction := "unknown"
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		direction = resErr.Direction
	}
	metrics.Get().ResolutionFailures.WithLabelValues(direction).Inc()
	slog.Debug("Lookup gave no complementary value", "direction", direction, "error", err)
}

// AddressObjects converts the address subtree into objects. Missing fields
// stay empty.
func AddressObjects(resp *panorama.Response) []model.AddressObject {
	if resp == nil {
		return nil
	}
	objects := make([]model.AddressObject, 0, len(resp.Result.Addresses))
	for _, entry := range resp.Result.Addresses {
		obj := model.AddressObject{Name: entry.Name}
		if entry.IPNetmask != nil {
			obj.IPNetmask = strings.TrimSpace(*entry.IPNetmask)
		}
		if entry.FQDN != nil {
			obj.FQDN = strings.TrimSpace(*entry.FQDN)
		}
		objects = append(objects, obj)
	}
	return objects
}

// Match checks every object against ip and fqdn. An ip-netmask matches the
// address or the address with /32; an fqdn matches when either name contains
// the other, ignoring case. IP matches record the object's value, FQDN
// matches record fqdn.
func Match(objects []model.AddressObject, ip, fqdn string) map[string]string {
	found := make(map[string]string)

	var hostMasked string
	if ip != "" && utils.IsHostAddress(ip) {
		hostMasked = utils.HostMask(ip)
	}
	lowerFQDN := strings.ToLower(strings.TrimSuffix(fqdn, "."))

	for _, obj := range objects {
		if obj.Name == "" {
			continue
		}

		if ip != "" && obj.IPNetmask != "" {
			if obj.IPNetmask == ip || (hostMasked != "" && obj.IPNetmask == hostMasked) {
				found[obj.Name] = obj.IPNetmask
			}
		}

		if lowerFQDN != "" && obj.FQDN != "" {
			objFQDN := strings.ToLower(strings.TrimSuffix(obj.FQDN, "."))
			if objFQDN != "" && (strings.Contains(objFQDN, lowerFQDN) || strings.Contains(lowerFQDN, objFQDN)) {
				found[obj.Name] = fqdn
			}
		}
	}
	return found
}
