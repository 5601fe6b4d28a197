package main

import (
	energyguard "github.com/kradalby/energyguard"
)

func main() {
	energyguard.Main()
}
