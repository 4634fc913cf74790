package basthon_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/pkg/domain"
)

// ExampleKernel_Run evaluates snippets against one persistent namespace.
func ExampleKernel_Run() {
	ctx := context.Background()
	k, err := basthon.New(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer k.Close()

	k.Subscribe(domain.EventEvalOutput, func(p domain.Payload) error {
		fmt.Printf("[%s] %s", p[domain.KeyStream], p[domain.KeyContent])
		return nil
	})

	if _, err := k.Run(ctx, `var greeting = "hello"`, nil); err != nil {
		log.Fatal(err)
	}
	res, err := k.Run(ctx, `console.log(greeting); greeting.length`, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Out[%d]: %s\n", res.ExecutionCount, res.Bundle.Text())

	// Output:
	// [stdout] hello
	// Out[2]: 5
}

// ExampleKernel_Listen drives the kernel purely through events.
func ExampleKernel_Listen() {
	ctx := context.Background()
	k, err := basthon.New(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer k.Close()

	done := make(chan struct{})
	k.Subscribe(domain.EventEvalFinished, func(p domain.Payload) error {
		result := p[domain.KeyResult].(domain.Bundle)
		fmt.Printf("cell %v -> %s\n", p["cell"], result.Text())
		close(done)
		return nil
	})

	stop := k.Listen(ctx)
	defer stop()

	k.Publish(domain.EventEvalRequest, domain.Payload{domain.KeyCode: "6 * 7", "cell": "c1"})
	<-done

	// Output:
	// cell c1 -> 42
}
