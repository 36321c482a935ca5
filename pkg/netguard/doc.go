// Package netguard keeps outbound image fetches away from internal networks.
//
// Three layers apply, cheapest first:
//
//   - ValidateURL: static checks on the URL string. Literal IP hosts are
//     classified here, so a URL such as https://127.0.0.1/ is refused before any
//     DNS query or connection attempt.
//   - SafeResolver.Resolve: resolves a hostname to its full address set and
//     fails closed if any address is not global, which covers multi-homed names
//     that mix public and private answers.
//   - SafeResolver.DialContext: used as the HTTP transport dialer, it resolves
//     again at connection time and only dials validated addresses, so a name
//     that changes its answer after ValidateURL (DNS rebinding) is still caught.
//
// IsGlobal is the single address classifier shared by all three.
package netguard
