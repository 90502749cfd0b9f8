// Command mcpconn connects stdio MCP tool servers, lists their tools and
// calls them from the command line.
package main

func main() {
	Execute()
}
