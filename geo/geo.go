package geo

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

// DefaultASNPaths are the usual install locations of the GeoLite2 ASN database
var DefaultASNPaths = []string{
	"/usr/share/GeoIP/GeoLite2-ASN.mmdb",
	"/usr/local/share/GeoIP/GeoLite2-ASN.mmdb",
}

var ErrNoDatabase = errors.New("no GeoLite2-ASN database found")

// ASNLookup labels addresses with the autonomous system announcing them
type ASNLookup struct {
	db *geoip2.Reader

	mu    sync.Mutex
	cache map[string]string
}

// OpenASN opens path, or the first of DefaultASNPaths when path is empty.
func OpenASN(path string) (*ASNLookup, error) {
	paths := DefaultASNPaths
	if path != "" {
		paths = []string{path}
	}

	for _, p := range paths {
		db, err := geoip2.Open(p)
		if err != nil {
			logrus.Debug("[ GEOIP ] ", p, ": ", err)
			continue
		}
		logrus.Debug("[ GEOIP ] using ", p)
		return &ASNLookup{db: db, cache: map[string]string{}}, nil
	}
	return nil, ErrNoDatabase
}

// Annotate returns "AS<n> <org>" for address, or an empty string when the
// address is not covered.
func (l *ASNLookup) Annotate(address string) string {
	if l == nil || l.db == nil {
		return ""
	}
	ip := net.ParseIP(address)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if label, ok := l.cache[address]; ok {
		return label
	}

	label := ""
	if rec, err := l.db.ASN(ip); err == nil && rec != nil {
		label = Label(rec.AutonomousSystemNumber, rec.AutonomousSystemOrganization)
	}
	l.cache[address] = label
	return label
}

func (l *ASNLookup) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Label formats an autonomous system for display
func Label(number uint, org string) string {
	if number == 0 {
		return ""
	}
	if org == "" {
		return fmt.Sprintf("AS%d", number)
	}
	return fmt.Sprintf("AS%d %s", number, org)
}
