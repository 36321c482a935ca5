// Package imagefetch turns attacker-influenced image URLs into validated image
// bytes.
//
// Fetcher.Fetch runs a fixed sequence and stops at the first failure:
//
//  1. ImageCache lookup by literal URL. A hit is re-sniffed and returned
//     without any network access.
//  2. netguard.ValidateURL. Unsafe literal addresses never reach the network.
//  3. A bounded GET through a client whose dialer is a netguard.SafeResolver.
//     A declared Content-Length over budget is refused before the body is
//     read; otherwise the body is read through a limit of budget+1 bytes.
//  4. SniffImage on the payload. The server's Content-Type is ignored.
//  5. ImageCache insert of the raw bytes.
//
// Every failure is a *domain.FetchError. Callers decide whether a failed
// image removes its slot or fails the whole request.
package imagefetch
