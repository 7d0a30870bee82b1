// Copyright (C) The PGS Catalog Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/pgscatalog/ancestry"

func main() {
	ancestry.Main()
}
