package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := NewCLI().Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
