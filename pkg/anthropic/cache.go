package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a prompt
// cache breakpoint. The classifier system prompt is identical across every
// request, so repeated calls read it from the cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
