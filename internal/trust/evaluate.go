package trust

// Evaluation is the trust chain folded down to its current effective state:
// which writers are bound to a live (unrevoked) key, and the last policy
// payload set, if any.
type Evaluation struct {
	Trusted map[string]struct{}
	Policy  interface{}
}

// IsTrusted reports whether writer is bound to a currently live key.
func (e Evaluation) IsTrusted(writer string) bool {
	_, ok := e.Trusted[writer]
	return ok
}

// EvaluateWriters folds records (assumed chain-ordered, genesis first, and
// already passed to VerifyChain) into the set of writers currently bound to
// an unrevoked key. A WRITER_BIND_ADD for a writer already bound replaces
// its key binding; WRITER_BIND_REVOKE removes the binding outright; a
// KEY_REVOKE drops trust for every writer currently bound to that key.
func EvaluateWriters(records []Record) Evaluation {
	liveKeys := make(map[string]struct{})
	writerKey := make(map[string]string)
	var policy interface{}

	for _, rec := range records {
		switch rec.Type {
		case KeyAdd:
			if keyID, ok := payloadField(rec.Payload, "key_id"); ok {
				liveKeys[keyID] = struct{}{}
			}
		case KeyRevoke:
			if keyID, ok := payloadField(rec.Payload, "key_id"); ok {
				delete(liveKeys, keyID)
				for w, k := range writerKey {
					if k == keyID {
						delete(writerKey, w)
					}
				}
			}
		case WriterBindAdd:
			writerID, wOK := payloadField(rec.Payload, "writer_id")
			keyID, kOK := payloadField(rec.Payload, "key_id")
			if wOK && kOK {
				writerKey[writerID] = keyID
			}
		case WriterBindRevoke:
			if writerID, ok := payloadField(rec.Payload, "writer_id"); ok {
				delete(writerKey, writerID)
			}
		case PolicySet:
			if p, ok := rec.Payload.(PolicySetPayload); ok {
				policy = p.Policy
			} else if m, ok := rec.Payload.(map[string]interface{}); ok {
				policy = m["policy"]
			}
		}
	}

	trusted := make(map[string]struct{})
	for writer, keyID := range writerKey {
		if _, live := liveKeys[keyID]; live {
			trusted[writer] = struct{}{}
		}
	}
	return Evaluation{Trusted: trusted, Policy: policy}
}

func payloadField(payload interface{}, field string) (string, bool) {
	switch field {
	case "key_id":
		if p, ok := payload.(KeyAddPayload); ok {
			return p.KeyID, true
		}
		if p, ok := payload.(KeyRevokePayload); ok {
			return p.KeyID, true
		}
		if p, ok := payload.(WriterBindPayload); ok {
			return p.KeyID, true
		}
	case "writer_id":
		if p, ok := payload.(WriterBindPayload); ok {
			return p.WriterID, true
		}
	}
	if m, ok := payload.(map[string]interface{}); ok {
		v := stringField(m, field)
		return v, v != ""
	}
	return "", false
}
