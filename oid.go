package rpki

import (
	"encoding/asn1"
)

var (
	// rsaEncryption from RFC 3370. Required for signed objects.
	OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	// sha256WithRSAEncryption from RFC 4055. Used by certificates, CRLs and
	// certification requests.
	OIDSHA256WithRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
)
