package cluster

// deepMerge merges src into dst. Nested maps are merged key by key; any
// other value in src replaces the one in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sv, sok := v.(map[string]any)
		dv, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = deepMerge(dv, sv)
			continue
		}
		if sok {
			dst[k] = deepMerge(nil, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}
