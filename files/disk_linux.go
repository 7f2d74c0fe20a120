package files

import "syscall"

func diskUsage(path string) DiskUsage {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return DiskUsage{Total: total, Used: total - free, Free: free}
}
