package broker

import "fmt"

// Redis key layout. This is an external compatibility surface (spec.md
// §3, §6) and must stay bit-stable across releases.

func readyKey(queue string) string {
	return fmt.Sprintf("queue:%s", queue)
}

func delayedKey(queue string) string {
	return fmt.Sprintf("queue:%s:delayed", queue)
}

func processingKey(queue string) string {
	return fmt.Sprintf("queue:%s:processing", queue)
}

func configKey(queue string) string {
	return fmt.Sprintf("queue:%s:config", queue)
}

func metaKey(messageID string) string {
	return fmt.Sprintf("%s:meta", messageID)
}

func resultKey(messageID string) string {
	return fmt.Sprintf("result:%s", messageID)
}
