/*
Package basthon is an embeddable kernel that evaluates JavaScript snippets
for notebook-style and console-style hosts.

The kernel keeps one persistent namespace, numbers every evaluation, records
In/Out history, discovers and installs the packages a snippet requires before
running it, captures what the snippet prints, formats its result as a MIME
bundle and reports everything as named events.

# Concept

Hosts talk to the kernel through an event bus. An "eval.request" carries a
snippet plus any auxiliary data the host needs to correlate the answer; every
event the evaluation causes echoes that data back:

  - eval.output   one flushed chunk of stdout or stderr
  - eval.display  a rich value shown with display() or a renderable package
  - eval.finished the execution count and the optional result bundle
  - eval.error    the fault, after its text was written to stderr

Evaluations never run concurrently. Requests served through Listen queue up
and run one at a time in arrival order.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/basthon"
		"github.com/aretw0/basthon/pkg/domain"
	)

	func main() {
		ctx := context.Background()
		k, err := basthon.New(ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer k.Close()

		k.Subscribe(domain.EventEvalOutput, func(p domain.Payload) error {
			fmt.Print(p[domain.KeyContent])
			return nil
		})

		res, err := k.Run(ctx, `console.log("hi"); 1 + 1`, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(res.Bundle.Text())
	}
*/
package basthon
