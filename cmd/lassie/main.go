// Lassie finds untagged cloud resources, works out from CloudTrail who
// created them and tags them with their owner.
package main

import "os"

func main() {
	os.Exit(Execute())
}
