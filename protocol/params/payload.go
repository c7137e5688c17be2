package params

// Limits applied to the free-form data maps carried by transaction outputs.
// They are enforced before anything crosses the signing boundary.
const (
	// MaxPayloadDepth is the deepest allowed nesting of maps and lists.
	MaxPayloadDepth = 4

	// MaxPayloadBytes is the largest canonical encoding of one payload.
	MaxPayloadBytes = 16 << 10

	// MaxPayloadKeyLen is the longest allowed map key (bytes).
	MaxPayloadKeyLen = 64

	// MaxOutputsPerTx caps outputs so a single submission stays bounded.
	MaxOutputsPerTx = 256

	// MaxInputsPerTx caps inputs per transaction.
	MaxInputsPerTx = 256
)
