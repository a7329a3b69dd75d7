package anthropic

// BuildCachedSystemBlocks returns the system prompt as a single block with a
// cache breakpoint. Requests sharing the same system text within ttl ("5m" or
// "1h") read it from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
