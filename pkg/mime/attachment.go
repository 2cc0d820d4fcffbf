package mime

import "strings"

// ChooseAttachment picks the business payload among the parts of a signed
// message. Signature parts are never chosen. The first part whose content
// type, parameters included, mentions EDI wins, otherwise the first
// remaining part. It returns nil when nothing qualifies.
func ChooseAttachment(parts []*Part) *Part {
	var candidates []*Part
	for _, p := range parts {
		if p == nil || IsSignature(p) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, p := range candidates {
		if strings.Contains(strings.ToLower(p.ContentType()), "edi") {
			return p
		}
	}
	return candidates[0]
}

// IsSignature reports whether p is a detached PKCS#7 signature part
func IsSignature(p *Part) bool {
	switch p.MediaType() {
	case ContentTypePKCS7Signature, ContentTypeXPKCS7Signature:
		return true
	}
	return false
}
