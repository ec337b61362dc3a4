package domain

import (
	"testing"

	"herbtrace/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"the domain layer must not depend on implementation packages")
}
