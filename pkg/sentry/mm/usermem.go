// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mm

import (
	"fmt"

	"github.com/prototypeos/kernel/pkg/errors/linuxerr"
	"github.com/prototypeos/kernel/pkg/hostarch"
	"github.com/prototypeos/kernel/pkg/ring0/pagetables"
	"github.com/prototypeos/kernel/pkg/sentry/pgalloc"
)

// TranslatedByteBuffers resolves the user buffer [ptr, ptr+n) in the
// address space activated by token into kernel views of its frames, one
// per page touched, in order. The views alias user memory.
//
// A page that is unmapped, not user accessible, or not readable fails the
// whole call with an error wrapping linuxerr.EFAULT.
func TranslatedByteBuffers(token uint64, frames *pgalloc.Allocator, ptr hostarch.VirtAddr, n uint64) ([][]byte, error) {
	if n == 0 {
		return nil, nil
	}
	end := ptr + hostarch.VirtAddr(n)
	if end < ptr || end > maxUserAddr {
		return nil, fmt.Errorf("buffer [%v, +%#x) outside user space: %w", ptr, n, linuxerr.EFAULT)
	}
	pt := pagetables.FromToken(token, pagetables.NewFrameAllocator(frames))
	mf := frames.MemoryFile()
	var bufs [][]byte
	for start := ptr; start < end; {
		pte, ok := pt.Translate(start.Floor())
		if !ok || !pte.IsUser() || !pte.Readable() {
			return nil, fmt.Errorf("user buffer page %v not accessible: %w", start.Floor(), linuxerr.EFAULT)
		}
		if !mf.Contains(pte.PPN()) || mf.Role(pte.PPN()) != pgalloc.RoleData {
			return nil, fmt.Errorf("user buffer page %v backed by %v: %w", start.Floor(), pte.PPN(), linuxerr.EFAULT)
		}
		pageEnd := (start.Floor() + 1).Addr()
		stop := min(pageEnd, end)
		page := mf.Bytes(pte.PPN())
		bufs = append(bufs, page[start.PageOffset():start.PageOffset()+uint64(stop-start)])
		start = stop
	}
	return bufs, nil
}

// maxUserAddr bounds user buffers to the lower half of the address space.
const maxUserAddr hostarch.VirtAddr = 1 << (hostarch.VAWidth - 1)
