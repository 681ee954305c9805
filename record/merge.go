package record

// DeepMerge overlays src onto dst, recursing into nested map[string]any
// values on both sides so a colliding key that holds a mapping in both
// maps merges its children instead of one replacing the other outright.
// Any other collision has src win. dst is mutated and returned.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}

	for k, sv := range src {
		if dvMap, ok := dst[k].(map[string]any); ok {
			if svMap, ok := sv.(map[string]any); ok {
				dst[k] = DeepMerge(dvMap, svMap)
				continue
			}
		}

		dst[k] = sv
	}

	return dst
}
