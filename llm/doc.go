// Package llm defines the provider-neutral contract the turn engine speaks:
// a canonical message shape, a Client interface over synchronous and
// streaming generation, a shared error taxonomy, and a registry mapping
// provider keys to adapter constructors.
//
// Vendor-specific translation (role renaming, system-prompt extraction,
// stream-chunk reassembly) lives entirely in the adapter subpackages; the
// engine never sees a vendor wire format.
package llm
