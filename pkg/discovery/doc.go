// ABOUTME: mDNS service discovery package
// ABOUTME: Discover and advertise mic relays on the local network
// Package discovery provides mDNS advertisement and browsing for relays.
//
// Example:
//
//	relays, err := discovery.Discover(ctx, 3*time.Second)
//	for _, r := range relays {
//	    fmt.Printf("Found: %s at %s\n", r.Name, r.URL())
//	}
package discovery
