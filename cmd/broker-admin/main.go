// Command broker-admin is a small CLI for inspecting and repairing
// queue state directly against Redis, exercising the Template's
// read-only admin surface (QueueDepths, Type, ReadFromList,
// ReadFromZSetWithScore) and the
// bulk-move contract used to requeue or drain a dead-letter queue.
//
// Usage:
//
//	broker-admin depth <queue>
//	broker-admin peek <key> <start> <end>
//	broker-admin requeue-dlq <dlqName> <queue> <limit>
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/internal/broker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	tmpl := broker.NewTemplate(rdb)
	ctx := context.Background()

	switch os.Args[1] {
	case "depth":
		if len(os.Args) != 3 {
			usage()
			os.Exit(1)
		}
		ready, delayed, processing, err := tmpl.QueueDepths(ctx, os.Args[2])
		fatalIf(err)
		fmt.Printf("ready=%d delayed=%d processing=%d\n", ready, delayed, processing)

	case "peek":
		if len(os.Args) != 5 {
			usage()
			os.Exit(1)
		}
		key := os.Args[2]
		start, err := strconv.ParseInt(os.Args[3], 10, 64)
		fatalIf(err)
		end, err := strconv.ParseInt(os.Args[4], 10, 64)
		fatalIf(err)

		keyType, err := tmpl.Type(ctx, key)
		fatalIf(err)
		switch keyType {
		case "zset":
			members, err := tmpl.ReadFromZSetWithScore(ctx, key, start, end)
			fatalIf(err)
			for _, m := range members {
				fmt.Printf("%.0f\t%s\n", m.Score, m.Member)
			}
		default:
			members, err := tmpl.ReadFromList(ctx, key, start, end)
			fatalIf(err)
			for _, m := range members {
				fmt.Println(m)
			}
		}

	case "requeue-dlq":
		if len(os.Args) != 5 {
			usage()
			os.Exit(1)
		}
		dlq, queue, limitStr := os.Args[2], os.Args[3], os.Args[4]
		limit, err := strconv.ParseInt(limitStr, 10, 64)
		fatalIf(err)
		n, err := tmpl.BulkMoveListToList(ctx, dlq, "queue:"+queue, limit)
		fatalIf(err)
		fmt.Printf("requeued %d message(s) from %s to queue %s\n", n, dlq, queue)

	default:
		usage()
		os.Exit(1)
	}
}

func fatalIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: broker-admin <depth|peek|requeue-dlq> ...")
}
