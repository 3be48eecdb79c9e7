package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"logship/pkg/cli"
)

var banner = `
.__                     .__    .__        
|  |   ____   ____  ______|  |__ |__|_____  
|  |  /  _ \ / ___\/  ___/|  |  \|  \____ \ 
|  |_(  <_> ) /_/  >___ \ |   Y  \  |  |_> >
|____/\____/\___  /____  >|___|  /__|   __/ 
           /_____/     \/      \/   |__|    
                                  ` + cli.Version

func main() {
	fmt.Fprintln(os.Stderr, banner)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "logship:", err)
		stop()
		os.Exit(1)
	}
}
