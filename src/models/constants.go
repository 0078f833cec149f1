package models

// KeySource records how a key came to exist.
type KeySource string

const (
	// SourceExternalFunnel marks keys minted after a verified funnel completion
	SourceExternalFunnel KeySource = "external-funnel"
	// SourceAdministrative marks keys created by an operator
	SourceAdministrative KeySource = "administrative"
)

// KeyState is the derived lifecycle state of a key at a point in time.
type KeyState string

const (
	KeyStateActiveUnlimited KeyState = "active_unlimited"
	KeyStateActiveMetered   KeyState = "active_metered"
	KeyStateExpired         KeyState = "expired"
	KeyStateDeactivated     KeyState = "deactivated"
)

// MaxFunnelGroups caps the number of step groups in a funnel configuration.
const MaxFunnelGroups = 20
