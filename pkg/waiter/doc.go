// Package waiter polls an operation until the remote resource reaches a
// desired state.
//
// Waiters are declared in a model document (version 2):
//
//	version: 2
//	waiters:
//	  TableExists:
//	    operation: DescribeTable
//	    delay: 20
//	    maxAttempts: 25
//	    acceptors:
//	      - {state: success, matcher: path, argument: Table.TableStatus, expected: ACTIVE}
//	      - {state: retry, matcher: error, expected: ResourceNotFoundException}
//
// Each poll increments the attempt count before the acceptors are
// evaluated in order; the first acceptor that matches sets the state. An
// error response that no acceptor matches ends the wait at once.
package waiter
