// Command admin edits and inspects a railwars store directly.
package main

func main() {
	Execute()
}
